package metrics

import (
	"bytes"
	"encoding/json"
	"net"
	"time"
)

// ReadInfo describes one raster read as served to a client.
type ReadInfo struct {
	Dataset      string    `json:"dataset"`
	Series       string    `json:"series,omitempty"`
	BBox         []float64 `json:"bbox,omitempty"`
	Instant      string    `json:"instant,omitempty"`
	Bands        []int     `json:"bands,omitempty"`
	Expressions  string    `json:"expressions,omitempty"`
	FileRef      string    `json:"file_ref"`
	Window       string    `json:"window"`
	NumBands     int       `json:"num_bands"`
	DecodedBytes int64     `json:"decoded_bytes"`
	CacheHit     bool      `json:"cache_hit"`
}

type MetricsInfo struct {
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	Method      string        `json:"method"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Read        *ReadInfo     `json:"read,omitempty"`
}

// MetricsCollector accumulates the metrics of one request and hands them
// to a Logger when the request is done.
type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
	start  time.Time
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		Info: &MetricsInfo{
			ReqTime: now.UTC().Format(time.RFC3339Nano),
			Read:    &ReadInfo{},
		},
		logger: logger,
		start:  now,
	}
}

// Log stamps the request duration and emits the collected metrics.
func (m *MetricsCollector) Log() {
	m.Info.ReqDuration = time.Since(m.start)
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	i.normaliseNetworkAddr(i.RemoteAddr)

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}
