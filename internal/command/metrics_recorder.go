// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

// MetricsRecorder collects the outcome of a single dispatch.
type MetricsRecorder struct {
	commandName string
	status      Status
}

// NewMetricsRecorder initializes a recorder for a single dispatch.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{status: StatusIgnored}
}

// SetCommandName sets the resolved command name.
func (m *MetricsRecorder) SetCommandName(name string) {
	m.commandName = name
}

// SetStatus sets the dispatch outcome.
func (m *MetricsRecorder) SetStatus(status Status) {
	m.status = status
}

// Status returns the recorded outcome.
func (m *MetricsRecorder) Status() Status {
	return m.status
}

// Record writes the execution counter. Messages that never named a
// registered command are not recorded, which keeps arbitrary user input out
// of the label set.
func (m *MetricsRecorder) Record() {
	if m.commandName == "" {
		return
	}
	RecordCommandExecution(m.commandName, m.status)
}
