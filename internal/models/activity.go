package models

// Activity is one audit-log entry. Object is the domain snapshot serialized
// into the index; Filter carries the keyword fields used for searching.
type Activity struct {
	Message string
	Object  any
	Filter  LogFilter
}

// LogFilter holds the indexed keyword fields plus the capture timestamp
// (unix nanoseconds, as a string for transport).
type LogFilter struct {
	Timestamp string
	Fields    map[string]string
}

// TimeSeriesPoint represents a data point in a time series chart.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}
