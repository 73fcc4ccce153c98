package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/resample"
)

var (
	ErrNotEnoughColumns  = errors.New("not enough columns")
	ErrInvalidTimeFormat = errors.New("cannot parse time")
	ErrInvalidNumber     = errors.New("OHLCV values must be numbers")
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// readBarsFile reads bars from path, or stdin for "-". JSON input is an
// array of bars or a columnar series; anything else is read as CSV.
func readBarsFile(path string, stdin io.Reader) ([]model.Bar, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return readBars(r)
}

// loadBars is readBarsFile followed by resampling to tf when tf > 0.
func loadBars(path string, stdin io.Reader, tf time.Duration) ([]model.Bar, error) {
	bars, err := readBarsFile(path, stdin)
	if err != nil || tf <= 0 {
		return bars, err
	}
	return resample.Bars(bars, tf)
}

func readBars(r io.Reader) ([]model.Bar, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(512)
	switch trimmed := bytes.TrimSpace(head); {
	case bytes.HasPrefix(trimmed, []byte("[")):
		var bars []model.Bar
		if err := json.NewDecoder(br).Decode(&bars); err != nil {
			return nil, fmt.Errorf("decode bars: %w", err)
		}
		return bars, nil
	case bytes.HasPrefix(trimmed, []byte("{")):
		var s model.Series
		if err := json.NewDecoder(br).Decode(&s); err != nil {
			return nil, fmt.Errorf("decode series: %w", err)
		}
		if !s.HasField(model.FieldTime) {
			return nil, fmt.Errorf("series: %w", ErrInvalidTimeFormat)
		}
		return s.Bars(), nil
	}
	return readCSV(csv.NewReader(br))
}

// readCSV decodes time,open,high,low,close[,volume] rows. A first row whose
// time column does not parse is taken as a header.
func readCSV(r *csv.Reader) ([]model.Bar, error) {
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var bars []model.Bar
	for line := 1; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			return bars, nil
		}
		if err != nil {
			return nil, err
		}
		b, err := decodeCSVBar(record)
		if err != nil {
			if line == 1 && errors.Is(err, ErrInvalidTimeFormat) {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
}

func decodeCSVBar(record []string) (model.Bar, error) {
	var b model.Bar
	if len(record) < 5 {
		return b, ErrNotEnoughColumns
	}
	t, err := parseTime(record[0])
	if err != nil {
		return b, err
	}
	b.Time = t

	fields := []*float64{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume}
	for i, dst := range fields {
		if i+1 >= len(record) {
			break
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("%w: %q", ErrInvalidNumber, record[i+1])
		}
		*dst = v
	}
	return b, nil
}

// parseTime accepts unix seconds, unix milliseconds or a layout from
// timeLayouts. Layouts without a zone are UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
}

// parseParams turns key=value flags into a ParamMap. Numbers and booleans
// are typed; everything else stays a string.
func parseParams(kv map[string]string) model.ParamMap {
	params := make(model.ParamMap, len(kv))
	for k, v := range kv {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = f
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			params[k] = b
			continue
		}
		params[k] = v
	}
	return params
}
