package models

import (
	"fmt"
	"strings"
	"time"
)

// ChangeFormat describes how an entity's change-detection column is stored
// in the source system.
type ChangeFormat string

const (
	// ChangeFormatDate is a native DATE column.
	ChangeFormatDate ChangeFormat = "date"
	// ChangeFormatTimestamp is a native DATETIME/TIMESTAMP column, compared by its date part.
	ChangeFormatTimestamp ChangeFormat = "timestamp"
	// ChangeFormatLayout is a text column holding a date in a custom layout.
	ChangeFormatLayout ChangeFormat = "layout"
)

// WriteMode is the warehouse write disposition for a load.
type WriteMode string

const (
	WriteModeReplace WriteMode = "replace"
	WriteModeAppend  WriteMode = "append"
)

// EntityMapping describes one independently watermarked source entity and
// where its batches land in the warehouse.
type EntityMapping struct {
	Name         string       `mapstructure:"name" json:"name"`
	Table        string       `mapstructure:"table" json:"table"`
	ChangeColumn string       `mapstructure:"change_column" json:"changeColumn"`
	ChangeFormat ChangeFormat `mapstructure:"change_format" json:"changeFormat"`
	// Layout is a Go time layout, used when ChangeFormat is "layout".
	Layout      string   `mapstructure:"layout" json:"layout,omitempty"`
	Destination string   `mapstructure:"destination" json:"destination"`
	Columns     []string `mapstructure:"columns" json:"columns,omitempty"`
}

// Validate checks the mapping is usable by the extractor.
func (m EntityMapping) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if m.Table == "" || m.ChangeColumn == "" {
		return fmt.Errorf("entity %s: table and change_column are required", m.Name)
	}
	switch m.ChangeFormat {
	case ChangeFormatDate, ChangeFormatTimestamp:
	case ChangeFormatLayout:
		if strings.TrimSpace(m.Layout) == "" {
			return fmt.Errorf("entity %s: layout is required for change_format %q", m.Name, m.ChangeFormat)
		}
	default:
		return fmt.Errorf("entity %s: unknown change_format %q", m.Name, m.ChangeFormat)
	}
	return nil
}

// DestinationTable returns the staging table name, defaulting to raw_<name>.
func (m EntityMapping) DestinationTable() string {
	if m.Destination != "" {
		return m.Destination
	}
	return "raw_" + m.Name
}

// LoadTarget is where a staged batch is loaded and with which write policy.
type LoadTarget struct {
	EntityName string
	Dataset    string
	Table      string
	WriteMode  WriteMode
}

// DestinationTable returns the fully qualified "dataset.table" name.
func (t LoadTarget) DestinationTable() string {
	return t.Dataset + "." + t.Table
}

// StepKind selects how a transform step runs.
type StepKind string

const (
	// StepCommand runs external commands, e.g. dbt.
	StepCommand StepKind = "command"
	// StepSQL runs statements against the warehouse.
	StepSQL StepKind = "sql"
)

// StepDefinition is the configured form of one transform graph node.
type StepDefinition struct {
	Name    string   `mapstructure:"name" json:"name"`
	Depends []string `mapstructure:"depends" json:"depends,omitempty"`
	Kind    StepKind `mapstructure:"kind" json:"kind"`
	// Commands are run one after another; each is split into argv with
	// shell quoting rules, no shell is involved.
	Commands []string      `mapstructure:"commands" json:"commands,omitempty"`
	SQL      []string      `mapstructure:"sql" json:"sql,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}
