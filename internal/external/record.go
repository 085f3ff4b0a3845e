package external

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// bytesPerMbps converts a bandwidth in bytes per second to megabits per second.
const bytesPerMbps = 125000

// Record is one JSON object emitted on a backend's stdout. Both CLIs report
// ping and bandwidth in different shapes; Record holds the normalized values.
type Record struct {
	Type     string
	Error    string
	Latency  *float64
	Jitter   *float64
	Download *float64
	Upload   *float64
	ServerID string
	ResultID string
}

type rawRecord struct {
	Type     string          `json:"type"`
	Error    json.RawMessage `json:"error"`
	Ping     json.RawMessage `json:"ping"`
	Jitter   json.RawMessage `json:"jitter"`
	Download json.RawMessage `json:"download"`
	Upload   json.RawMessage `json:"upload"`
	Server   json.RawMessage `json:"server"`
	Result   json.RawMessage `json:"result"`
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := Record{Type: raw.Type, Error: errorText(raw.Error)}

	if present(raw.Ping) {
		var number float64
		if err := json.Unmarshal(raw.Ping, &number); err == nil {
			rec.Latency = &number
		} else {
			var ping struct {
				Latency *float64 `json:"latency"`
				Jitter  *float64 `json:"jitter"`
			}
			if err := json.Unmarshal(raw.Ping, &ping); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			rec.Latency = ping.Latency
			rec.Jitter = ping.Jitter
		}
	}
	if present(raw.Jitter) {
		var jitter float64
		if err := json.Unmarshal(raw.Jitter, &jitter); err != nil {
			return fmt.Errorf("jitter: %w", err)
		}
		rec.Jitter = &jitter
	}

	var err error
	if rec.Download, err = bandwidth(raw.Download); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if rec.Upload, err = bandwidth(raw.Upload); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if present(raw.Server) {
		var server struct {
			ID json.RawMessage `json:"id"`
		}
		if json.Unmarshal(raw.Server, &server) == nil {
			rec.ServerID = scalarText(server.ID)
		}
	}
	if present(raw.Result) {
		var res struct {
			ID json.RawMessage `json:"id"`
		}
		if json.Unmarshal(raw.Result, &res) == nil {
			rec.ResultID = scalarText(res.ID)
		}
	}

	*r = rec
	return nil
}

// bandwidth accepts a number in Mbps or an object carrying bytes per second.
func bandwidth(raw json.RawMessage) (*float64, error) {
	if !present(raw) {
		return nil, nil
	}
	var mbps float64
	if err := json.Unmarshal(raw, &mbps); err == nil {
		return &mbps, nil
	}
	var obj struct {
		Bandwidth *float64 `json:"bandwidth"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Bandwidth == nil {
		return nil, nil
	}
	mbps = *obj.Bandwidth / bytesPerMbps
	return &mbps, nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func errorText(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(bytes.TrimSpace(raw))
}

func scalarText(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// parseLine decodes a stdout line. Lines that do not start with '{' or '['
// are progress output and yield ok == false. Arrays contribute their first
// element.
func parseLine(line string) (rec Record, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Record{}, false, nil
	}
	switch line[0] {
	case '{':
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return Record{}, false, err
		}
		return rec, true, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(line), &items); err != nil {
			return Record{}, false, err
		}
		if len(items) == 0 {
			return Record{}, false, nil
		}
		if err := json.Unmarshal(items[0], &rec); err != nil {
			return Record{}, false, err
		}
		return rec, true, nil
	default:
		return Record{}, false, nil
	}
}
