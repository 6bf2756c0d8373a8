package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/utils"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	ModeDump    = "dump"
	ModeRestore = "restore"
	ModeInsert  = "insert"

	StorageDisk = "disk"
	StorageS3   = "s3"

	MetaStoreDisk  = "disk"
	MetaStoreCRDB  = "crdb"
	MetaStoreRedis = "redis"
	MetaStoreNone  = "none"

	FormatAvro    = "avro"
	FormatParquet = "parquet"

	InterfaceSQL    = "sql"
	InterfaceStmt   = "stmt"
	InterfaceLine   = "line"
	InterfaceTelnet = "telnet"
	InterfaceJSON   = "json"
)

type (
	Config struct {
		Mode       string     `yaml:"mode" validate:"required,oneof=dump restore insert"`
		LogLevel   string     `yaml:"logLevel" validate:"omitempty,oneof=trace debug info warn error"`
		Connection Connection `yaml:"connection"`
		Storage    Storage    `yaml:"storage"`
		MetaStore  MetaStore  `yaml:"metaStore"`
		Dump       Dump       `yaml:"dump"`
		Restore    Restore    `yaml:"restore"`
		Insert     Insert     `yaml:"insert"`
	}

	Connection struct {
		// DSN is a taosRestful DSN, user:pass@http(host:port)/
		DSN string `yaml:"dsn" validate:"required"`
	}

	Storage struct {
		Kind string `yaml:"kind" validate:"oneof=disk s3"`
		// Path is the dump directory for disk storage
		Path      string `yaml:"path"`
		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		PathStyle bool   `yaml:"pathStyle"`
		// Compress stores every file zstd compressed with a .zst suffix
		Compress  bool `yaml:"compress"`
		ZstdLevel int  `yaml:"zstdLevel" validate:"gte=0,lte=4"`
	}

	MetaStore struct {
		Kind     string `yaml:"kind" validate:"omitempty,oneof=disk crdb redis none"`
		DSN      string `yaml:"dsn" validate:"required_if=Kind crdb"`
		Addr     string `yaml:"addr" validate:"required_if=Kind redis"`
		Password string `yaml:"password"`
	}

	Dump struct {
		AllDatabases bool `yaml:"allDatabases"`
		// Databases is a comma separated list of databases
		Databases string `yaml:"databases"`
		// Database with optional Tables names a single database, or tables and super tables inside it
		Database string   `yaml:"database"`
		Tables   []string `yaml:"tables"`

		Threads    int    `yaml:"threads" validate:"gte=1"`
		PageSize   int64  `yaml:"pageSize" validate:"gte=1"`
		Format     string `yaml:"format" validate:"oneof=avro parquet"`
		AvroCodec  string `yaml:"avroCodec" validate:"omitempty,oneof=null deflate snappy"`
		Escape     bool   `yaml:"escape"`
		Loose      bool   `yaml:"loose"`
		HumanNames bool   `yaml:"humanNames"`
		SchemaOnly bool   `yaml:"schemaOnly"`

		// StartTime and EndTime bound the dumped rows, RFC3339, both inclusive
		StartTime string `yaml:"startTime"`
		EndTime   string `yaml:"endTime"`

		Start time.Time `yaml:"-"`
		End   time.Time `yaml:"-"`
	}

	Restore struct {
		Threads   int `yaml:"threads" validate:"gte=1"`
		BatchSize int `yaml:"batchSize" validate:"gte=1"`
		// RenameDatabases maps a dumped database name to the one restored into
		RenameDatabases map[string]string `yaml:"renameDatabases"`
		VerifyChecksums bool              `yaml:"verifyChecksums"`
		// RunID limits manifest verification to one dump run, empty accepts any
		RunID string `yaml:"runID"`
	}

	Insert struct {
		Threads   int    `yaml:"threads" validate:"gte=1"`
		Interface string `yaml:"interface" validate:"oneof=sql stmt line telnet json"`
		Database  string `yaml:"database" validate:"required"`
		Precision string `yaml:"precision" validate:"omitempty,oneof=ms us ns"`
		Drop      bool   `yaml:"drop"`
		Escape    bool   `yaml:"escape"`
		Seed      int64  `yaml:"seed"`
		Chinese   bool   `yaml:"chinese"`

		SuperTable SuperTable `yaml:"superTable"`
	}

	SuperTable struct {
		Name         string `yaml:"name"`
		ChildPrefix  string `yaml:"childPrefix"`
		ChildCount   int    `yaml:"childCount" validate:"gte=1"`
		RowsPerTable int64  `yaml:"rowsPerTable" validate:"gte=0"`
		// StartTimestamp is RFC3339 or "now"
		StartTimestamp string `yaml:"startTimestamp"`
		TimestampStep  int64  `yaml:"timestampStep" validate:"gte=1"`
		BatchSize      int    `yaml:"batchSize" validate:"gte=1"`
		PreparedRows   int    `yaml:"preparedRows" validate:"gte=1"`
		DisorderRatio  int    `yaml:"disorderRatio" validate:"gte=0,lte=100"`
		DisorderRange  int    `yaml:"disorderRange" validate:"gte=0"`
		SampleFile     string `yaml:"sampleFile"`
		UseSampleTs    bool   `yaml:"useSampleTs"`
		TagsFile       string `yaml:"tagsFile"`

		Columns []FieldSpec `yaml:"columns" validate:"dive"`
		Tags    []FieldSpec `yaml:"tags" validate:"dive"`
	}

	// FieldSpec declares Count fields of one type. With Count above one the fields are numbered Name0, Name1...
	FieldSpec struct {
		Name     string   `yaml:"name"`
		Type     string   `yaml:"type" validate:"required"`
		Length   int      `yaml:"len" validate:"gte=0"`
		Min      *int64   `yaml:"min"`
		Max      *int64   `yaml:"max"`
		Count    int      `yaml:"count" validate:"gte=0"`
		Values   []string `yaml:"values"`
		Nullable bool     `yaml:"nullable"`
	}
)

var (
	ErrScopeConflict = errors.New("allDatabases, databases and database are mutually exclusive")
	ErrNoScope       = errors.New("no dump scope given")
	ErrTimeRange     = errors.New("startTime is after endTime")
	ErrDisorder      = errors.New("disorderRange must be at least 1 when disorderRatio is set")
	ErrSampleTs      = errors.New("useSampleTs needs a sampleFile")

	validate = validator.New()
)

// Default is the configuration a YAML file overrides key by key.
func Default() *Config {
	return &Config{
		Connection: Connection{DSN: utils.TAOS_DSN},
		Storage: Storage{
			Kind:      StorageDisk,
			Path:      "./dump",
			Bucket:    utils.S3_BUCKET_NAME,
			Endpoint:  utils.S3_ENDPOINT,
			Region:    utils.AWS_DEFAULT_REGION,
			ZstdLevel: 2,
		},
		MetaStore: MetaStore{Kind: MetaStoreDisk, DSN: utils.CRDB_DSN, Addr: utils.REDIS_ADDR},
		Dump: Dump{
			Threads:  8,
			PageSize: 16384,
			Format:   FormatAvro,
			Escape:   true,
		},
		Restore: Restore{
			Threads:   8,
			BatchSize: 16384,
		},
		Insert: Insert{
			Threads:   8,
			Interface: InterfaceSQL,
			Database:  "test",
			Precision: string(coltype.Millisecond),
			Drop:      true,
			Escape:    true,
			Seed:      time.Now().UnixNano(),
			SuperTable: SuperTable{
				Name:           "meters",
				ChildPrefix:    "d",
				ChildCount:     10,
				RowsPerTable:   10000,
				StartTimestamp: "now",
				TimestampStep:  1,
				BatchSize:      100,
				PreparedRows:   10000,
			},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %s", utils.ErrConfig, path, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %q: %s", utils.ErrConfig, path, err)
	}
	cfg.applyEnv()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", utils.ErrConfig, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Connection.DSN = utils.GetEnvOrDefault("TAOS_DSN", c.Connection.DSN)
	c.Storage.Bucket = utils.GetEnvOrDefault("S3_BUCKET_NAME", c.Storage.Bucket)
	c.Storage.Endpoint = utils.GetEnvOrDefault("S3_ENDPOINT", c.Storage.Endpoint)
	c.MetaStore.DSN = utils.GetEnvOrDefault("CRDB_DSN", c.MetaStore.DSN)
	c.MetaStore.Addr = utils.GetEnvOrDefault("REDIS_ADDR", c.MetaStore.Addr)
}

// Validate runs the struct tags and the rules that span fields. Every failure wraps utils.ErrConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", utils.ErrConfig, err)
	}
	if c.Storage.Kind == StorageS3 && c.Storage.Bucket == "" {
		return fmt.Errorf("%w: storage.bucket is required for s3 storage", utils.ErrConfig)
	}
	if c.Storage.Kind == StorageDisk && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required for disk storage", utils.ErrConfig)
	}
	switch c.Mode {
	case ModeDump:
		if err := c.Dump.validate(); err != nil {
			return fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
	case ModeInsert:
		if err := c.Insert.validate(); err != nil {
			return fmt.Errorf("%w: %s", utils.ErrConfig, err)
		}
	}
	return nil
}

func (d *Dump) validate() error {
	scopes := 0
	if d.AllDatabases {
		scopes++
	}
	if strings.TrimSpace(d.Databases) != "" {
		scopes++
	}
	if d.Database != "" {
		scopes++
	}
	switch {
	case scopes > 1:
		return ErrScopeConflict
	case scopes == 0:
		return ErrNoScope
	}
	if len(d.Tables) > 0 && d.Database == "" {
		return fmt.Errorf("tables need a database")
	}
	var err error
	if d.StartTime != "" {
		if d.Start, err = time.Parse(time.RFC3339Nano, d.StartTime); err != nil {
			return fmt.Errorf("startTime: %w", err)
		}
	}
	if d.EndTime != "" {
		if d.End, err = time.Parse(time.RFC3339Nano, d.EndTime); err != nil {
			return fmt.Errorf("endTime: %w", err)
		}
	}
	if !d.Start.IsZero() && !d.End.IsZero() && d.Start.After(d.End) {
		return ErrTimeRange
	}
	return nil
}

// DatabaseList splits the comma separated Databases value.
func (d *Dump) DatabaseList() []string {
	var out []string
	for _, db := range strings.Split(d.Databases, ",") {
		if db = strings.TrimSpace(db); db != "" {
			out = append(out, db)
		}
	}
	return out
}

func (i *Insert) validate() error {
	st := &i.SuperTable
	if st.DisorderRatio > 0 && st.DisorderRange < 1 {
		return ErrDisorder
	}
	if st.UseSampleTs && st.SampleFile == "" {
		return ErrSampleTs
	}
	if len(st.Columns) == 0 {
		return fmt.Errorf("superTable.columns is empty")
	}
	if _, err := i.Schema(); err != nil {
		return err
	}
	if _, err := i.StartTime(time.Now()); err != nil {
		return err
	}
	return nil
}

// StartTime resolves StartTimestamp, "now" or empty meaning now.
func (i *Insert) StartTime(now time.Time) (time.Time, error) {
	s := strings.TrimSpace(i.SuperTable.StartTimestamp)
	if s == "" || strings.EqualFold(s, "now") {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("startTimestamp: %w", err)
	}
	return t, nil
}

// Schema builds the super table from the column and tag specs. The timestamp column "ts" comes first.
func (i *Insert) Schema() (*table.Schema, error) {
	p := coltype.Millisecond
	if i.Precision != "" {
		var err error
		if p, err = coltype.ParsePrecision(i.Precision); err != nil {
			return nil, err
		}
	}
	cols, err := Fields(i.SuperTable.Columns, false)
	if err != nil {
		return nil, err
	}
	tags, err := Fields(i.SuperTable.Tags, true)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		tags = []table.Field{{Name: "groupid", Type: coltype.Int, Min: 1, Max: 10, IsTag: true}}
	}
	s := &table.Schema{
		DB:        i.Database,
		Name:      i.SuperTable.Name,
		Precision: p,
		Columns:   append([]table.Field{{Name: "ts", Type: coltype.Timestamp}}, cols...),
		Tags:      tags,
	}
	if err = s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Fields expands specs into fields. Unnamed specs are named c<n> for columns and t<n> for tags.
func Fields(specs []FieldSpec, tags bool) ([]table.Field, error) {
	prefix := "c"
	if tags {
		prefix = "t"
	}
	var out []table.Field
	for _, spec := range specs {
		t, err := coltype.Parse(spec.Type)
		if err != nil {
			return nil, err
		}
		count := spec.Count
		if count < 1 {
			count = 1
		}
		for n := 0; n < count; n++ {
			name := spec.Name
			switch {
			case name == "":
				name = prefix + strconv.Itoa(len(out))
			case count > 1:
				name += strconv.Itoa(n)
			}
			f := table.Field{
				Name:     name,
				Type:     t,
				Length:   spec.Length,
				Nullable: spec.Nullable,
				IsTag:    tags,
				Values:   spec.Values,
			}
			if spec.Min != nil {
				f.Min = *spec.Min
			}
			if spec.Max != nil {
				f.Max = *spec.Max
			}
			out = append(out, f.WithDefaults())
		}
	}
	return out, nil
}
