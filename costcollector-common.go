package costcollector

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/inconshreveable/log15"
)

func containsString(strSlice []string, searchStr string) bool {
	for _, value := range strSlice {
		if value == searchStr {
			return true
		}
	}
	return false
}

func dedupeString(strSlice []string) []string {
	var returnSlice []string
	for _, value := range strSlice {
		if !containsString(returnSlice, value) {
			returnSlice = append(returnSlice, value)
		}
	}
	return returnSlice
}

// defaultLogger sets up a log15 logger writing logfmt to stderr at lvl.
// Stdout is left alone because collectors may print their JSON there.
func defaultLogger(lvl log15.Lvl) log15.Logger {
	l := log15.New()
	l.SetHandler(
		log15.LvlFilterHandler(
			lvl,
			log15.StreamHandler(os.Stderr, log15.LogfmtFormat()),
		),
	)
	return l
}

// NewLogger returns a logger like the package default, at debug level
// when debug is set. Handy for CLIs that want to share one logger across
// an Invoker, an Expedition and an Aggregator.
func NewLogger(debug bool) log15.Logger {
	if debug {
		return defaultLogger(log15.LvlDebug)
	}
	return defaultLogger(log15.LvlInfo)
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./-_", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// lookup walks nested objects by key. It returns nil when any step is
// missing or is not an object.
func lookup(v interface{}, path ...string) interface{} {
	cur := v
	for _, key := range path {
		var m map[string]interface{}
		switch t := cur.(type) {
		case Document:
			m = t
		case map[string]interface{}:
			m = t
		default:
			return nil
		}
		next, ok := m[key]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// listAt returns the list found at path, or nil for anything else.
func listAt(v interface{}, path ...string) []interface{} {
	l, _ := lookup(v, path...).([]interface{})
	return l
}

// stringAt returns the string found at path, or "" for anything else.
func stringAt(v interface{}, path ...string) string {
	s, _ := lookup(v, path...).(string)
	return s
}

// toFloat converts JSON numbers and numeric strings (cost APIs return
// amounts as strings). Anything else converts to 0, as do NaN and the
// infinities.
func toFloat(v interface{}) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0
		}
		f = n
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = n
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// toInt truncates toFloat's result.
func toInt(v interface{}) int {
	return int(toFloat(v))
}

// truthy mirrors how a JSON consumer would judge "present": false, 0, "",
// null and empty collections are all absent.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}
