package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeviceMetrics 设备交互相关指标
type DeviceMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	SessionsActive    prometheus.Gauge
	ApduExchanged     *prometheus.CounterVec
}

// Device 全局实例，未初始化时为 nil，所有方法对 nil 安全
var Device *DeviceMetrics

// NewDeviceMetrics 创建并注册指标，测试中可传入独立的 Registry
func NewDeviceMetrics(reg prometheus.Registerer) *DeviceMetrics {
	m := &DeviceMetrics{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_device_operations_total",
			Help: "Device operations by chain, operation and result.",
		}, []string{"chain", "operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signer_device_operation_duration_seconds",
			Help:    "Duration of device operations including user confirmation.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60},
		}, []string{"chain", "operation"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signer_sessions_active",
			Help: "Open device sessions.",
		}),
		ApduExchanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_apdu_exchanged_total",
			Help: "APDUs exchanged with devices by transport and status word.",
		}, []string{"transport", "status_word"}),
	}
	if reg != nil {
		reg.MustRegister(m.OperationsTotal, m.OperationDuration, m.SessionsActive, m.ApduExchanged)
	}
	return m
}

// InitDeviceMetrics 初始化全局设备指标
func InitDeviceMetrics(reg prometheus.Registerer) {
	Device = NewDeviceMetrics(reg)
}

// ObserveOperation 记录一次设备操作
func (m *DeviceMetrics) ObserveOperation(chain, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(chain, operation, status).Inc()
	m.OperationDuration.WithLabelValues(chain, operation).Observe(time.Since(start).Seconds())
}

func (m *DeviceMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *DeviceMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// ObserveApdu 记录一次 APDU 往返
func (m *DeviceMetrics) ObserveApdu(transport string, statusWord uint16) {
	if m == nil {
		return
	}
	m.ApduExchanged.WithLabelValues(transport, formatStatusWord(statusWord)).Inc()
}

func formatStatusWord(sw uint16) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{
		hexDigits[sw>>12&0xf], hexDigits[sw>>8&0xf], hexDigits[sw>>4&0xf], hexDigits[sw&0xf],
	})
}
