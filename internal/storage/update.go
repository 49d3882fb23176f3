package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/metrics"
)

// Assignments maps column names to the values UpdateEntry sets
type Assignments map[string]any

// Conditions maps column names to the values rows must equal to be updated.
// A nil value matches NULL.
type Conditions map[string]any

// UpdateEntry sets columns on every row matching all conditions and returns
// the number of rows changed. Column names must exist on the table; values
// are always bound as parameters.
func (s *Store) UpdateEntry(ctx context.Context, table string, set Assignments, where Conditions) (affected int64, err error) {
	defer metrics.Observe("update_entry", time.Now(), &err)

	if len(set) == 0 {
		return 0, ErrEmptyAssignment
	}
	if len(where) == 0 {
		return 0, ErrEmptyCondition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	setCols := sortedKeys(set)
	whereCols := sortedKeys(where)
	if err = s.requireColumns(ctx, table, append(append([]string{}, setCols...), whereCols...)...); err != nil {
		return 0, err
	}

	args := make([]any, 0, len(set)+len(where))
	setParts := make([]string, 0, len(setCols))
	for _, c := range setCols {
		setParts = append(setParts, quoteIdent(c)+" = ?")
		args = append(args, set[c])
	}
	whereParts := make([]string, 0, len(whereCols))
	for _, c := range whereCols {
		if where[c] == nil {
			whereParts = append(whereParts, quoteIdent(c)+" IS NULL")
			continue
		}
		whereParts = append(whereParts, quoteIdent(c)+" = ?")
		args = append(args, where[c])
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		quoteIdent(table), strings.Join(setParts, ", "), strings.Join(whereParts, " AND "))

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", table, err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"table":    table,
		"affected": affected,
	}).Debug("Updated entries")
	return affected, nil
}

// ParseLiteral converts command-line text into a value suitable for binding.
// NULL becomes nil, integers become int64 and decimals float64. Quoted text
// is always returned as a string with the quotes removed.
func ParseLiteral(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' || first == '"') && first == last {
			return s[1 : len(s)-1]
		}
	}
	if strings.EqualFold(s, "null") {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if numericLiteral.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
			return f
		}
	}
	return s
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
