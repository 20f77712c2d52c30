package repository

import (
	"os"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

var createTablePattern = regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\n\);`)

func loadSchemaColumns(t *testing.T) map[string]map[string]string {
	t.Helper()
	raw, err := os.ReadFile("../../migrations/0001_renewal_engine.up.sql")
	require.NoError(t, err)

	tables := make(map[string]map[string]string)
	for _, match := range createTablePattern.FindAllStringSubmatch(string(raw), -1) {
		columns := make(map[string]string)
		for _, line := range strings.Split(match[2], "\n") {
			fields := strings.Fields(strings.TrimSpace(line))
			if len(fields) == 0 || fields[0] == "UNIQUE" {
				continue
			}
			columns[fields[0]] = strings.Join(fields[1:], " ")
		}
		tables[match[1]] = columns
	}
	return tables
}

// Optional model fields bind NULL, which a NOT NULL column rejects even when it has a default.
func TestSchemaAcceptsEveryModelColumn(t *testing.T) {
	tables := loadSchemaColumns(t)
	bindings := map[string]interface{}{
		"tenants":          models.Tenant{},
		"users":            models.Worker{},
		"courses":          models.Course{},
		"enrollments":      models.Enrollment{},
		"renewal_requests": models.RenewalRequest{},
		"workflow_steps":   models.WorkflowStep{},
		"workflow_logs":    models.WorkflowLog{},
		"notifications":    models.Notification{},
	}

	for table, model := range bindings {
		columns, ok := tables[table]
		require.True(t, ok, "table %s missing from migration", table)

		typ := reflect.TypeOf(model)
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			column := field.Tag.Get("db")
			if column == "" {
				continue
			}
			definition, ok := columns[column]
			if !assert.True(t, ok, "%s.%s missing from migration", table, column) {
				continue
			}
			nullable := field.Type.Kind() == reflect.Ptr ||
				(field.Type.Kind() == reflect.Slice && field.Type.Elem().Kind() == reflect.Uint8)
			if nullable {
				assert.NotContains(t, definition, "NOT NULL", "%s.%s is optional in %s", table, column, typ.Name())
			}
		}
	}
}

func TestSchemaCommentColumnsAreNullable(t *testing.T) {
	tables := loadSchemaColumns(t)
	assert.Equal(t, "TEXT,", tables["renewal_requests"]["decision_comment"])
	assert.Equal(t, "TEXT,", tables["workflow_steps"]["comment"])
}
