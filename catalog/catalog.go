// Package catalog loads the temporal catalog of a GRASS space time raster
// dataset from its TGIS tables.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/nci/rastex/processor"
	"github.com/rs/zerolog"
)

var ErrNoCatalog = errors.New("no temporal catalog")

var mapsRegexp = regexp.MustCompile(`maps="(.[^"]*)"`)

const (
	seriesQuery = `select id, command from strds_metadata`

	slicesQuery = `select b.id, b.name, b.mapset, t.start_time, t.end_time
		from raster_base b
		join raster_absolute_time t on t.id = b.id
		where b.temporal_type = 'absolute'
		order by b.creation_time, b.id`
)

// undefined_table
const pqUndefinedTable = "42P01"

// ParseSeriesMembers extracts the member map names from the command that
// created or registered a series, e.g. `t.register input=tmean
// maps="tmean_2020_01,tmean_2020_02"`. A mapset qualifier (name@mapset)
// is dropped so members compare against slice file basenames.
func ParseSeriesMembers(command string) []string {
	m := mapsRegexp.FindStringSubmatch(command)
	if m == nil {
		return nil
	}
	var members []string
	for _, name := range strings.Split(m[1], ",") {
		name = strings.TrimSpace(name)
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		if len(name) > 0 {
			members = append(members, name)
		}
	}
	return members
}

// SlicePath is the raster file of map name in mapset of a GRASS location.
func SlicePath(location, mapset, name string) string {
	return filepath.Join(location, mapset, "cellhd", name)
}

type Loader struct {
	DB       *sql.DB
	Location string
	Log      zerolog.Logger
}

// NewLoader opens a Postgres catalog. The connection is lazy; the first
// Load reports connection errors.
func NewLoader(dsn, location string, log zerolog.Logger) (*Loader, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %v", location, err)
	}
	return &Loader{DB: db, Location: location, Log: log}, nil
}

func (l *Loader) Close() error {
	return l.DB.Close()
}

// Load reads every series and every absolute time slice. Slices keep
// their creation order, which decides precedence between slices valid at
// the same instant. A slice without an end time is valid at its start
// instant only.
func (l *Loader) Load(ctx context.Context) (*processor.Catalog, error) {
	series, err := l.loadSeries(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := l.DB.QueryContext(ctx, slicesQuery)
	if err != nil {
		return nil, l.queryError(err)
	}
	defer rows.Close()

	catalog := &processor.Catalog{Series: series}
	for rows.Next() {
		var id, name, mapset string
		var start time.Time
		var end sql.NullTime
		if err := rows.Scan(&id, &name, &mapset, &start, &end); err != nil {
			return nil, fmt.Errorf("catalog %s: %v", l.Location, err)
		}

		entry := processor.SliceCatalogEntry{
			SliceID: id,
			Start:   start.UTC(),
			End:     start.UTC(),
			FileRef: SlicePath(l.Location, mapset, name),
		}
		if end.Valid {
			entry.End = end.Time.UTC()
		}
		catalog.Entries = append(catalog.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog %s: %v", l.Location, err)
	}

	l.Log.Info().Str("location", l.Location).Int("series", len(catalog.Series)).
		Int("slices", len(catalog.Entries)).Msg("catalog loaded")
	return catalog, nil
}

func (l *Loader) loadSeries(ctx context.Context) (map[string][]string, error) {
	rows, err := l.DB.QueryContext(ctx, seriesQuery)
	if err != nil {
		return nil, l.queryError(err)
	}
	defer rows.Close()

	series := make(map[string][]string)
	for rows.Next() {
		var id string
		var command sql.NullString
		if err := rows.Scan(&id, &command); err != nil {
			return nil, fmt.Errorf("catalog %s: %v", l.Location, err)
		}
		members := ParseSeriesMembers(command.String)
		if len(members) == 0 {
			l.Log.Warn().Str("series", id).Msg("series command lists no maps")
			continue
		}
		series[id] = members
	}
	return series, rows.Err()
}

func (l *Loader) queryError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUndefinedTable {
		return fmt.Errorf("%w in %s: %s", ErrNoCatalog, l.Location, pqErr.Message)
	}
	return fmt.Errorf("catalog %s: %v", l.Location, err)
}
