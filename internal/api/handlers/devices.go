package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"meter-indicators/internal/api/models"
	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

// DeviceHandler lists device reference data.
type DeviceHandler struct {
	dir indicator.DeviceDirectory
}

func NewDeviceHandler(dir indicator.DeviceDirectory) *DeviceHandler {
	return &DeviceHandler{dir: dir}
}

// ListDevices handles GET /api/v1/devices
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	var q models.DeviceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	devices, err := h.dir.Devices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "DEVICES_UNAVAILABLE", Message: err.Error()},
		})
		return
	}
	devices = lo.Filter(devices, func(d model.Device, _ int) bool {
		return (q.InstitutionID == "" || d.InstitutionID == q.InstitutionID) &&
			(q.Category == "" || d.Category == q.Category)
	})
	c.JSON(http.StatusOK, models.DevicesResponse{Devices: devices})
}
