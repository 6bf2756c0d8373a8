package part

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type (
	// Class is the kind of file a part holds. It fixes the extension and the restore order.
	Class int

	// Part is one file produced by a dump run.
	Part struct {
		ID    string `json:"id"`
		RunID string `json:"runID"`
		Name  string `json:"name"`
		Class Class  `json:"class"`
		DB    string `json:"db"`
		// Table is the table or super table whose rows or tags the file holds, empty for SQL and ntb files
		Table     string    `json:"table,omitempty"`
		RowCount  int64     `json:"rowCount"`
		Bytes     int64     `json:"bytes"`
		Checksum  uint64    `json:"checksum"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// FileName is a parsed dump file name: <db>.<id>.<seq>.<ext>.
	FileName struct {
		DB    string
		ID    string
		Seq   int
		Class Class
	}
)

const (
	ClassSQL Class = iota
	ClassTags
	ClassNtb
	ClassData
	ClassParquet
)

var (
	ErrBadFileName = errors.New("not a dump file name")

	extensions = map[Class]string{
		ClassSQL:     "sql",
		ClassTags:    "avro-tbtags",
		ClassNtb:     "avro-ntb",
		ClassData:    "avro",
		ClassParquet: "parquet",
	}

	// RestoreOrder is the order file classes are replayed in. Later classes refer to tables earlier ones create.
	RestoreOrder = []Class{ClassSQL, ClassTags, ClassNtb, ClassData, ClassParquet}
)

func (c Class) Ext() string {
	return extensions[c]
}

func (c Class) String() string {
	if e, ok := extensions[c]; ok {
		return e
	}
	return "class(" + strconv.Itoa(int(c)) + ")"
}

func ClassFromExt(ext string) (Class, bool) {
	for c, e := range extensions {
		if e == ext {
			return c, true
		}
	}
	return 0, false
}

func (f FileName) String() string {
	return f.DB + "." + f.ID + "." + strconv.Itoa(f.Seq) + "." + f.Class.Ext()
}

// ParseFileName splits a dump file name. The id may itself contain dots.
func ParseFileName(name string) (FileName, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 4 {
		return FileName{}, fmt.Errorf("%w: %s", ErrBadFileName, name)
	}
	class, ok := ClassFromExt(parts[len(parts)-1])
	if !ok {
		return FileName{}, fmt.Errorf("%w: extension of %s", ErrBadFileName, name)
	}
	seq, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return FileName{}, fmt.Errorf("%w: sequence of %s", ErrBadFileName, name)
	}
	return FileName{
		DB:    parts[0],
		ID:    strings.Join(parts[1:len(parts)-2], "."),
		Seq:   seq,
		Class: class,
	}, nil
}

// Discover groups file names by class in restore order. Names that are not dump files are skipped. Within a
// class files keep a stable order by database, id and sequence.
func Discover(names []string) (map[Class][]FileName, []string) {
	out := map[Class][]FileName{}
	var skipped []string
	for _, n := range names {
		f, err := ParseFileName(n)
		if err != nil {
			skipped = append(skipped, n)
			continue
		}
		out[f.Class] = append(out[f.Class], f)
	}
	for _, files := range out {
		sort.Slice(files, func(i, j int) bool {
			a, b := files[i], files[j]
			if a.DB != b.DB {
				return a.DB < b.DB
			}
			if a.ID != b.ID {
				return a.ID < b.ID
			}
			return a.Seq < b.Seq
		})
	}
	return out, skipped
}
