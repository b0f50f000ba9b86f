// Package metrics exports unit state and bridge activity in Prometheus format
package metrics

import (
	"errors"
	"fancoil2mqtt/fancoil"
	"fancoil2mqtt/modbus"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	RESULT_OK              = "ok"
	RESULT_PARTIAL         = "partial"
	RESULT_INVALID_STATE   = "invalid_state"
	RESULT_INVALID_COMMAND = "invalid_command"
	RESULT_TRANSPORT_ERROR = "transport_error"
	RESULT_ERROR           = "error"
)

type Metrics struct {
	registry           *prometheus.Registry
	targetTemperature  *prometheus.GaugeVec
	currentTemperature *prometheus.GaugeVec
	waterTemperature   *prometheus.GaugeVec
	fanSpeed           *prometheus.GaugeVec
	hvacMode           *prometheus.GaugeVec
	fanMode            *prometheus.GaugeVec
	refreshTotal       *prometheus.CounterVec
	commandTotal       *prometheus.CounterVec
	modbusDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		targetTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fancoil_target_temperature_celsius",
			Help: "Target temperature (°C)",
		}, []string{"device"}),
		currentTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fancoil_current_temperature_celsius",
			Help: "Ambient temperature (°C), -1 when the sensor is missing",
		}, []string{"device"}),
		waterTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fancoil_water_temperature",
			Help: "Water temperature, raw register value",
		}, []string{"device"}),
		fanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fancoil_fan_speed",
			Help: "Fan speed, raw register value",
		}, []string{"device"}),
		hvacMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fancoil_hvac_mode",
			Help: "1 for the current HVAC mode, 0 for the others",
		}, []string{"device", "mode"}),
		fanMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fancoil_fan_mode",
			Help: "1 for the current fan mode, 0 for the others",
		}, []string{"device", "mode"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fancoil_refresh_total",
			Help: "Refresh cycles by result",
		}, []string{"device", "result"}),
		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fancoil_command_total",
			Help: "Commands by result",
		}, []string{"device", "command", "result"}),
		modbusDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fancoil_modbus_request_duration_seconds",
			Help:    "Duration of Modbus bus operations, retries included",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.targetTemperature,
		m.currentTemperature,
		m.waterTemperature,
		m.fanSpeed,
		m.hvacMode,
		m.fanMode,
		m.refreshTotal,
		m.commandTotal,
		m.modbusDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument times every bus operation
func (m *Metrics) Instrument() modbus.Instrument {
	return modbus.Instrument{
		RecordTime: func(fnName string, d time.Duration) {
			m.modbusDuration.WithLabelValues(fnName).Observe(d.Seconds())
		},
	}
}

func result(err error) string {
	switch {
	case err == nil:
		return RESULT_OK
	case errors.Is(err, fancoil.ErrPartialRefresh):
		return RESULT_PARTIAL
	case errors.Is(err, fancoil.ErrInvalidDeviceState):
		return RESULT_INVALID_STATE
	case errors.Is(err, fancoil.ErrInvalidCommand):
		return RESULT_INVALID_COMMAND
	case errors.Is(err, fancoil.ErrTransport):
		return RESULT_TRANSPORT_ERROR
	}
	return RESULT_ERROR
}

func (m *Metrics) ObserveRefresh(device string, state fancoil.DeviceState, err error) {
	m.refreshTotal.WithLabelValues(device, result(err)).Inc()
	if !state.Valid {
		return
	}
	m.targetTemperature.WithLabelValues(device).Set(state.TargetTemperature)
	m.currentTemperature.WithLabelValues(device).Set(state.CurrentTemperature)
	m.waterTemperature.WithLabelValues(device).Set(float64(state.WaterTemperature))
	m.fanSpeed.WithLabelValues(device).Set(float64(state.FanSpeed))
	for _, mode := range fancoil.HvacModeNames {
		m.hvacMode.WithLabelValues(device, mode).Set(oneHot(mode == state.HvacMode.String()))
	}
	for _, mode := range fancoil.FanModeNames {
		m.fanMode.WithLabelValues(device, mode).Set(oneHot(mode == state.FanMode.String()))
	}
}

func (m *Metrics) ObserveCommand(device string, command string, err error) {
	m.commandTotal.WithLabelValues(device, command, result(err)).Inc()
}

func oneHot(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
