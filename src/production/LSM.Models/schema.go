package lsmmodels

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	lsmerrors "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Errors"
)

// Measurement field names
const (
	FieldTemperature  = "temperature"
	FieldHumidity     = "humidity"
	FieldSoilMoisture = "soil_moisture"
	FieldRainStatus   = "rain_status"
	FieldVibration    = "vibration"
	FieldAccelX       = "accel_x"
	FieldAccelY       = "accel_y"
	FieldAccelZ       = "accel_z"
	FieldGyroX        = "gyro_x"
	FieldGyroY        = "gyro_y"
	FieldGyroZ        = "gyro_z"
)

// SchemaRevision lists the fields a schema version added. Revisions are additive only:
// a field is never removed or renamed, older names survive as aliases.
type SchemaRevision struct {
	Version int
	Added   []string
}

var revisions = []SchemaRevision{
	{Version: 1, Added: []string{FieldTemperature, FieldHumidity, FieldSoilMoisture, FieldRainStatus, FieldAccelX, FieldAccelY, FieldAccelZ}},
	{Version: 2, Added: []string{FieldGyroX, FieldGyroY, FieldGyroZ}},
	{Version: 3, Added: []string{FieldVibration}},
}

type alias struct {
	legacy, name string
}

// firmware before the snake_case rename, earlier entries win
var legacyAliases = []alias{
	{"soilMoisture", FieldSoilMoisture},
	{"raindrop", FieldRainStatus},
	{"rain", FieldRainStatus},
	{"accelX", FieldAccelX},
	{"accelY", FieldAccelY},
	{"accelZ", FieldAccelZ},
	{"gyroX", FieldGyroX},
	{"gyroY", FieldGyroY},
	{"gyroZ", FieldGyroZ},
}

var (
	fieldOrder []string
	fieldSet   map[string]struct{}
)

func init() {
	fieldSet = make(map[string]struct{})
	for _, rev := range revisions {
		for _, f := range rev.Added {
			fieldOrder = append(fieldOrder, f)
			fieldSet[f] = struct{}{}
		}
	}
}

// SchemaVersion returns the current schema version
func SchemaVersion() int {
	return revisions[len(revisions)-1].Version
}

// FieldNames returns every field of the current schema in revision order
func FieldNames() []string {
	out := make([]string, len(fieldOrder))
	copy(out, fieldOrder)
	return out
}

// Canonical resolves a payload key to its current field name
func Canonical(key string) (string, bool) {
	if _, ok := fieldSet[key]; ok {
		return key, true
	}
	for _, a := range legacyAliases {
		if a.legacy == key {
			return a.name, true
		}
	}
	return "", false
}

// DecodeFields extracts the recognized measurement fields of a payload. Unrecognized keys
// are dropped and null values count as absent. A recognized key whose value cannot be read
// as a finite number yields a ValidationError.
func DecodeFields(raw map[string]interface{}) (map[string]float64, error) {
	fields := make(map[string]float64, len(raw))
	for _, name := range fieldOrder {
		value, ok := raw[name]
		if !ok || value == nil {
			continue
		}
		v, err := toFloat(value)
		if err != nil {
			return nil, lsmerrors.NewValidation(name, err.Error())
		}
		fields[name] = v
	}

	// a canonical key wins over its legacy alias
	for _, a := range legacyAliases {
		legacy, name := a.legacy, a.name
		value, ok := raw[legacy]
		if !ok || value == nil {
			continue
		}
		if _, seen := fields[name]; seen {
			continue
		}
		if _, canonical := raw[name]; canonical {
			continue
		}
		v, err := toFloat(value)
		if err != nil {
			return nil, lsmerrors.NewValidation(legacy, err.Error())
		}
		fields[name] = v
	}
	return fields, nil
}

type numberError string

func (e numberError) Error() string { return string(e) }

func toFloat(value interface{}) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, numberError("must be a number")
		}
		f = parsed
	case bool:
		// digital sensors report 0/1, some firmware sends booleans
		if v {
			f = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, numberError("must be a number")
		}
		f = parsed
	default:
		return 0, numberError("must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, numberError("must be finite")
	}
	return f, nil
}
