/*
Package wire defines the JSON shapes exchanged between replicas: change
sets for delta sync, schema migrations, and the chunked snapshot
stream. These types never touch the KV store directly — pkg/sync
translates between them and pkg/metastore's records.
*/
package wire

import (
	"encoding/json"

	"github.com/cuemby/crdtsync/pkg/hlc"
)

// ChangeKind discriminates the tagged union carried by Change.
type ChangeKind string

const (
	ChangeKindColumn ChangeKind = "column"
	ChangeKindDelete ChangeKind = "delete"
)

// Change is one unit of replication: a single column write or a row
// deletion. Exactly one of ColumnChange/RowDeletion is non-nil,
// selected by Kind.
type Change struct {
	Kind         ChangeKind    `json:"type"`
	ColumnChange *ColumnChange `json:"column,omitempty"`
	RowDeletion  *RowDeletion  `json:"delete,omitempty"`
}

// ColumnChange carries one column's new value at a given HLC.
type ColumnChange struct {
	Schema string          `json:"schema"`
	Table  string          `json:"table"`
	PK     []byte          `json:"pk"`
	Column string          `json:"column"`
	Value  json.RawMessage `json:"value"`
	HLC    hlc.HLC         `json:"hlc"`
}

// RowDeletion marks a row deleted as of HLC.
type RowDeletion struct {
	Schema string  `json:"schema"`
	Table  string  `json:"table"`
	PK     []byte  `json:"pk"`
	HLC    hlc.HLC `json:"hlc"`
}

// SchemaMigration is one DDL event replicated alongside row data.
type SchemaMigration struct {
	Version uint64  `json:"version"`
	Schema  string  `json:"schema"`
	Table   string  `json:"table"`
	Target  string  `json:"target,omitempty"`
	Kind    int     `json:"kind"`
	DDL     string  `json:"ddl"`
	HLC     hlc.HLC `json:"hlc"`
}

// ChangeSet is one page of replicated changes. GetChangesSince fills
// pages in HLC order and leaves TransactionID empty, so one origin
// transaction may span pages and one page may mix transactions;
// TransactionID carries no ordering meaning across change sets.
type ChangeSet struct {
	SiteID           []byte            `json:"siteId"`
	TransactionID    string            `json:"transactionId"`
	HLC              hlc.HLC           `json:"hlc"`
	Changes          []Change          `json:"changes"`
	SchemaMigrations []SchemaMigration `json:"schemaMigrations,omitempty"`
}

// SnapshotChunkKind discriminates the tagged union carried by a
// SnapshotChunk on the snapshot stream.
type SnapshotChunkKind string

const (
	SnapshotChunkHeader          SnapshotChunkKind = "header"
	SnapshotChunkTableStart      SnapshotChunkKind = "tableStart"
	SnapshotChunkColumnVersions  SnapshotChunkKind = "columnVersions"
	SnapshotChunkTableEnd        SnapshotChunkKind = "tableEnd"
	SnapshotChunkSchemaMigration SnapshotChunkKind = "schemaMigration"
	SnapshotChunkFooter          SnapshotChunkKind = "footer"
)

// SnapshotChunk is one frame of the snapshot stream. The stream's frame
// order is: one header, then per table a tableStart followed by zero or
// more columnVersions chunks and one tableEnd, then zero or more
// schemaMigration chunks, then one footer.
type SnapshotChunk struct {
	Kind SnapshotChunkKind `json:"type"`

	Header          *SnapshotHeader    `json:"header,omitempty"`
	TableStart      *SnapshotTableMark `json:"tableStart,omitempty"`
	ColumnVersions  []SnapshotRow      `json:"columnVersions,omitempty"`
	TableEnd        *SnapshotTableMark `json:"tableEnd,omitempty"`
	SchemaMigration *SchemaMigration   `json:"schemaMigration,omitempty"`
	Footer          *SnapshotFooter    `json:"footer,omitempty"`
}

// SnapshotHeader opens a snapshot stream.
type SnapshotHeader struct {
	SnapshotID      string  `json:"snapshotId"`
	SiteID          []byte  `json:"siteId"`
	AsOfHLC         hlc.HLC `json:"asOfHlc"`
	TableCount      uint64  `json:"tableCount"`
	MigrationCount  uint64  `json:"migrationCount"`
}

// SnapshotTableMark begins or ends one table's section of the stream.
// EstimatedEntries is set on tableStart, EntriesWritten on tableEnd.
type SnapshotTableMark struct {
	Schema            string `json:"schema"`
	Table             string `json:"table"`
	EstimatedEntries  uint64 `json:"estimatedEntries,omitempty"`
	EntriesWritten    uint64 `json:"entriesWritten,omitempty"`
}

// SnapshotRow is one live column version within a table's section, or a
// row-level tombstone when Deleted is set (Column and Value then empty).
type SnapshotRow struct {
	PK      []byte          `json:"pk"`
	Column  string          `json:"column,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	HLC     hlc.HLC         `json:"hlc"`
	Deleted bool            `json:"deleted,omitempty"`
}

// SnapshotFooter closes a snapshot stream.
type SnapshotFooter struct {
	SnapshotID      string `json:"snapshotId"`
	TotalTables     uint64 `json:"totalTables"`
	TotalEntries    uint64 `json:"totalEntries"`
	TotalMigrations uint64 `json:"totalMigrations"`
}
