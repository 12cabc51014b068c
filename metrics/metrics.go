// Package metrics records one JSON line per processed region.
package metrics

import (
	"bytes"
	"encoding/json"
	"time"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type RegionInfo struct {
	Path   string `json:"path"`
	Region int    `json:"region"`
	Rect   string `json:"rect"`
	Width  int    `json:"image_width"`
	Height int    `json:"image_height"`
}

type ExtractInfo struct {
	PrepDuration    time.Duration `json:"prep_duration"`
	ExtractDuration time.Duration `json:"extract_duration"`
	FilterDuration  time.Duration `json:"filter_duration"`
	NumChunks       int           `json:"num_chunks"`
	NumRejected     int           `json:"num_rejected"`
	BytesRead       int64         `json:"bytes_read"`
	Threads         int           `json:"threads"`
}

type ExtractionInfo struct {
	StartTime string        `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Region    RegionInfo    `json:"region"`
	Extract   ExtractInfo   `json:"extract"`
	Error     string        `json:"error,omitempty"`
}

// Collector accumulates the record of one region and hands it to a Logger.
type Collector struct {
	Info   *ExtractionInfo
	start  time.Time
	logger Logger
}

func NewCollector(logger Logger) *Collector {
	now := time.Now()
	return &Collector{
		Info:   &ExtractionInfo{StartTime: now.UTC().Format(timeFormat)},
		start:  now,
		logger: logger,
	}
}

// Log finalises the record with err, which may be nil.
func (c *Collector) Log(err error) {
	if c.logger == nil {
		return
	}
	c.Info.Duration = time.Since(c.start)
	if err != nil {
		c.Info.Error = err.Error()
	}
	c.logger.Log(c.Info)
}

func (i *ExtractionInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}
