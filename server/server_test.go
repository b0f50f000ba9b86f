package server_test

import (
	"encoding/json"
	"errors"
	"fancoil2mqtt/fancoil"
	"fancoil2mqtt/metrics"
	"fancoil2mqtt/modbus"
	"fancoil2mqtt/server"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type nopMqtt struct{}

func (nopMqtt) Publish(topic string, qos byte, retained bool, payload string) error { return nil }
func (nopMqtt) Subscribe(topic string, callback func(message string)) error        { return nil }

var errBus = errors.New("no response from slave")

func newTestServer(t *testing.T, health func() error) (http.Handler, *modbus.Mock) {
	logger := zaptest.NewLogger(t)
	mb := modbus.NewMock()
	m := metrics.New()
	var units []server.Unit
	for _, slave := range []byte{49, 50} {
		name := map[byte]string{49: "living_room", 50: "bedroom"}[slave]
		b := fancoil.NewBridge(&fancoil.Config{
			Device: fancoil.NewDevice(&fancoil.DeviceConfig{
				Name:      name,
				SlaveID:   slave,
				Transport: mb,
				Logger:    logger,
			}),
			Mqtt:        nopMqtt{},
			TopicPrefix: "fancoil2mqtt",
			HassPrefix:  "homeassistant",
			Bounds:      fancoil.Bounds{Min: 16, Max: 30},
			Recorder:    m,
			Logger:      logger,
		})
		require.NoError(t, b.Start())
		units = append(units, b)
	}
	srv := server.NewServer(&server.Config{
		Port:    8080,
		Units:   units,
		Metrics: m.Handler(),
		Health:  health,
		Logger:  logger,
	})
	assert.Equal(t, ":8080", srv.Addr)
	return srv.Handler, mb
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestServer(t, nil)
	rec := do(h, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())

	h, _ = newTestServer(t, func() error { return errors.New("mqtt down") })
	rec = do(h, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDevices(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(h, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "living_room", list[0]["name"])
	assert.Equal(t, "bedroom", list[1]["name"])
	assert.Equal(t, "off", list[1]["hvacMode"])
	assert.Equal(t, "High", list[1]["fanMode"])

	rec = do(h, http.MethodGet, "/api/devices/living_room", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode(t, rec)
	assert.Equal(t, 22.0, v["targetTemperature"])
	assert.Equal(t, 20.0, v["currentTemperature"])
	assert.Equal(t, "heat", v["hvacMode"])
	assert.Equal(t, "Silent", v["fanMode"])
	assert.Equal(t, true, v["valid"])
	assert.Equal(t, map[string]interface{}{"water_temperature": 45.0, "fan_speed": 3.0}, v["attributes"])

	rec = do(h, http.MethodGet, "/api/devices/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommands(t *testing.T) {
	h, mb := newTestServer(t, nil)

	rec := do(h, http.MethodPut, "/api/devices/living_room/targetTemp", `{"temperature": 21.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 21.5, decode(t, rec)["targetTemperature"])
	assert.Equal(t, uint16(215), mb.Get(49, fancoil.REG_TARGET_TEMP))

	for _, body := range []string{`{"temperature": 35}`, `{"temperature": 10}`, `{}`, `{"temperature": "warm"}`} {
		rec = do(h, http.MethodPut, "/api/devices/living_room/targetTemp", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, uint16(215), mb.Get(49, fancoil.REG_TARGET_TEMP))

	rec = do(h, http.MethodPut, "/api/devices/bedroom/hvacMode", `{"mode": "heat"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "heat", decode(t, rec)["hvacMode"])
	assert.Equal(t, uint16(0b0000_0011), mb.Get(50, fancoil.REG_PROGRAM_FLAGS))
	assert.Equal(t, uint16(0), mb.Get(50, fancoil.REG_SEASON))

	rec = do(h, http.MethodPut, "/api/devices/bedroom/hvacMode", `{"mode": "dry"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPut, "/api/devices/living_room/fanMode", `{"mode": "Night"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Night", decode(t, rec)["fanMode"])

	mb.FailWrite[fancoil.REG_PROGRAM_FLAGS] = errBus
	rec = do(h, http.MethodPut, "/api/devices/living_room/fanMode", `{"mode": "Auto"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "no response from slave")

	rec = do(h, http.MethodPut, "/api/devices/ghost/fanMode", `{"mode": "Auto"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newTestServer(t, nil)

	do(h, http.MethodPut, "/api/devices/living_room/fanMode", `{"mode": "High"}`)
	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fancoil_command_total{command="fanMode",device="living_room",result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `fancoil_refresh_total{device="bedroom",result="ok"} 1`)
}
