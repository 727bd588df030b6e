package store

import "time"

// SchemaVersion is written to the meta table when a Store is opened.
const SchemaVersion = "1"

// Config is a stored Caddyfile, identified by name.
type Config struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
	Path string

	LastImportedAt *time.Time
	LastExportedAt *time.Time
	// ContentHash is the hex-encoded SHA-256 of the last imported source.
	ContentHash string
	// LastImportID identifies the ingest run that wrote the current rows.
	LastImportID string

	CreatedAt time.Time
	UpdatedAt time.Time

	Blocks []ServerBlock `gorm:"foreignKey:ConfigID;constraint:OnDelete:CASCADE"`
}

// ServerBlock is a block of a Config. The block with BlockIndex -1 is the sentinel holding the
// text before the first block in its Prelude.
type ServerBlock struct {
	ID         uint `gorm:"primaryKey"`
	ConfigID   uint `gorm:"not null;uniqueIndex:idx_block_order,priority:1"`
	BlockIndex int  `gorm:"not null;uniqueIndex:idx_block_order,priority:2"`

	IsGlobal bool
	Braced   bool
	Prelude  string
	Postlude string

	Sites      []ServerBlockSite `gorm:"foreignKey:BlockID;constraint:OnDelete:CASCADE"`
	Directives []Directive       `gorm:"foreignKey:BlockID;constraint:OnDelete:CASCADE"`
	Fragments  []RawFragment     `gorm:"foreignKey:BlockID;constraint:OnDelete:CASCADE"`
}

// sentinelIndex is the BlockIndex of a config's sentinel block.
const sentinelIndex = -1

// ServerBlockSite is a single label of a block's address list. The derived address columns are
// NULL when the label could not be decomposed.
type ServerBlockSite struct {
	ID         uint `gorm:"primaryKey"`
	BlockID    uint `gorm:"not null;uniqueIndex:idx_site_order,priority:1"`
	LabelIndex int  `gorm:"not null;uniqueIndex:idx_site_order,priority:2"`

	RawLabel  string `gorm:"not null"`
	Separator string

	Host       *string
	Port       *int
	Scheme     *string
	Path       *string
	IsIPv6     *bool
	IsWildcard *bool
}

// Directive is a directive line of a block.
type Directive struct {
	ID        uint `gorm:"primaryKey"`
	BlockID   uint `gorm:"not null;uniqueIndex:idx_directive_order,priority:1"`
	LineIndex int  `gorm:"not null;uniqueIndex:idx_directive_order,priority:2"`

	Name       string
	Matcher    *string
	MatcherSep string

	RawLeading  string
	RawTrailing string

	OpenSep      string
	HasBlock     bool
	RawBlockBody *string
	BodyIndent   string
	CloseIndent  string

	Args      []DirectiveArg      `gorm:"foreignKey:DirectiveID;constraint:OnDelete:CASCADE"`
	KeyValues []DirectiveKeyValue `gorm:"foreignKey:DirectiveID;constraint:OnDelete:CASCADE"`
}

// DirectiveArg is a positional argument of a directive.
type DirectiveArg struct {
	ID          uint `gorm:"primaryKey"`
	DirectiveID uint `gorm:"not null;uniqueIndex:idx_arg_order,priority:1"`
	ArgIndex    int  `gorm:"not null;uniqueIndex:idx_arg_order,priority:2"`

	Value   string
	Spacing string
}

// DirectiveKeyValue is a key and value line of a directive's structured body.
type DirectiveKeyValue struct {
	ID          uint `gorm:"primaryKey"`
	DirectiveID uint `gorm:"not null;uniqueIndex:idx_kv_order,priority:1"`
	KVIndex     int  `gorm:"column:kv_index;not null;uniqueIndex:idx_kv_order,priority:2"`

	Section *string
	Key     string
	Value   string
}

func (DirectiveKeyValue) TableName() string { return "directive_kv" }

// RawFragment is a comment, blank line, or indentation following the last directive of a block.
type RawFragment struct {
	ID            uint `gorm:"primaryKey"`
	BlockID       uint `gorm:"not null;uniqueIndex:idx_fragment_order,priority:1"`
	FragmentIndex int  `gorm:"not null;uniqueIndex:idx_fragment_order,priority:2"`

	Kind    string
	Content string
}

// Meta is a key/value row describing the database itself.
type Meta struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (Meta) TableName() string { return "meta" }

var models = []any{
	&Config{},
	&ServerBlock{},
	&ServerBlockSite{},
	&Directive{},
	&DirectiveArg{},
	&DirectiveKeyValue{},
	&RawFragment{},
	&Meta{},
}
