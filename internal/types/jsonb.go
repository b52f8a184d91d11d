package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*ForecastRecord)(nil)
	_ driver.Valuer = ForecastRecord{}
	_ sql.Scanner   = (*WeatherAnalysis)(nil)
	_ driver.Valuer = WeatherAnalysis(nil)
)

// scanJSONB scans a JSONB (Postgres) or TEXT (SQLite) column into dest.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

func valueJSONB(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner for ForecastRecord.
func (f *ForecastRecord) Scan(value any) error {
	return scanJSONB(f, value)
}

// Value implements driver.Valuer for ForecastRecord.
func (f ForecastRecord) Value() (driver.Value, error) {
	return valueJSONB(f)
}

// Scan implements sql.Scanner for WeatherAnalysis.
func (a *WeatherAnalysis) Scan(value any) error {
	return scanJSONB(a, value)
}

// Value implements driver.Valuer for WeatherAnalysis. A nil analysis is
// stored as SQL NULL.
func (a WeatherAnalysis) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return valueJSONB(map[Parameter]ParameterScore(a))
}
