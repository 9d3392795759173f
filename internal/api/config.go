package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ConfigField is one leaf value surfaced by a service's config form,
// flattened from (possibly nested) TOML tables into a dotted key.
type ConfigField struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	FieldType   string `json:"field_type"`
	Description string `json:"description"`
}

type serviceConfig struct {
	HasConfig   bool          `json:"has_config"`
	HasTemplate bool          `json:"has_template"`
	Fields      []ConfigField `json:"fields"`
}

func fieldType(v any) string {
	switch v.(type) {
	case int64, int:
		return "integer"
	case float64, float32:
		return "float"
	case bool:
		return "boolean"
	default:
		return "string"
	}
}

func valueString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func getByPath(table map[string]any, path string) (any, bool) {
	if table == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = table
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// flattenTable walks value depth-first, turning every non-table leaf into
// a ConfigField with a dotted key. Used when there is no template —
// the current config's own shape defines the fields.
func flattenTable(prefix string, table map[string]any, out *[]ConfigField) {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := table[k]
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenTable(key, nested, out)
			continue
		}
		*out = append(*out, ConfigField{
			Key:       key,
			Value:     valueString(v),
			FieldType: fieldType(v),
		})
	}
}

// extractConfigFields walks the template's shape, pulling the current
// config's value for each field (by dotted path) when present, else
// falling back to the template's own default value.
func extractConfigFields(template map[string]any, current map[string]any) []ConfigField {
	var out []ConfigField
	extractFields("", template, current, &out)
	return out
}

func extractFields(prefix string, template map[string]any, current map[string]any, out *[]ConfigField) {
	keys := make([]string, 0, len(template))
	for k := range template {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := template[k]
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		description := fmt.Sprintf("Configuration for %s", k)

		if nested, ok := v.(map[string]any); ok {
			extractFields(key, nested, current, out)
			continue
		}

		value := valueString(v)
		if cv, ok := getByPath(current, key); ok {
			value = valueString(cv)
		}
		*out = append(*out, ConfigField{
			Key:         key,
			Value:       value,
			FieldType:   fieldType(v),
			Description: description,
		})
	}
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	serviceRoot := s.node.ServiceRoot(id)
	configPath := filepath.Join(serviceRoot, "config.toml")
	templatePath := filepath.Join(serviceRoot, "config.example.toml")

	hasConfig := fileExists(configPath)
	hasTemplate := fileExists(templatePath)

	var fields []ConfigField
	if hasTemplate {
		var tmpl map[string]any
		if data, err := os.ReadFile(templatePath); err == nil {
			_ = toml.Unmarshal(data, &tmpl)
		}
		var cur map[string]any
		if hasConfig {
			if data, err := os.ReadFile(configPath); err == nil {
				_ = toml.Unmarshal(data, &cur)
			}
		}
		if tmpl != nil {
			fields = extractConfigFields(tmpl, cur)
		}
	} else if hasConfig {
		var cur map[string]any
		if data, err := os.ReadFile(configPath); err == nil {
			_ = toml.Unmarshal(data, &cur)
		}
		if cur != nil {
			flattenTable("", cur, &fields)
		}
	}
	if fields == nil {
		fields = []ConfigField{}
	}

	writeJSON(w, http.StatusOK, serviceConfig{
		HasConfig:   hasConfig,
		HasTemplate: hasTemplate,
		Fields:      fields,
	})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func parseScalar(value string) any {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

func insertNested(table map[string]any, parts []string, value string) {
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		table[parts[0]] = parseScalar(value)
		return
	}

	section := parts[0]
	nested, ok := table[section].(map[string]any)
	if !ok {
		nested = map[string]any{}
		table[section] = nested
	}
	insertNested(nested, parts[1:], value)
}

type updateConfigRequest struct {
	Config map[string]string `json:"config"`
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	table := map[string]any{}
	for key, value := range req.Config {
		parts := strings.Split(key, ".")
		insertNested(table, parts, value)
	}

	data, err := toml.Marshal(table)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to encode config", err, r))
		return
	}

	serviceRoot := s.node.ServiceRoot(id)
	if err := os.MkdirAll(serviceRoot, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to create service directory", err, r))
		return
	}
	if err := os.WriteFile(filepath.Join(serviceRoot, "config.toml"), data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to write config", err, r))
		return
	}

	writeMessage(w, http.StatusOK, "configuration updated. restart the service to apply changes")
}

type templateField struct {
	Value     string `json:"value"`
	FieldType string `json:"field_type"`
}

type createTemplateRequest struct {
	Fields map[string]templateField `json:"fields"`
}

func templateScalar(f templateField) any {
	switch f.FieldType {
	case "integer":
		if i, err := strconv.ParseInt(f.Value, 10, 64); err == nil {
			return i
		}
	case "float":
		if fv, err := strconv.ParseFloat(f.Value, 64); err == nil {
			return fv
		}
	case "boolean":
		if b, err := strconv.ParseBool(f.Value); err == nil {
			return b
		}
	}
	return f.Value
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	table := map[string]any{}
	for key, field := range req.Fields {
		table[key] = templateScalar(field)
	}

	data, err := toml.Marshal(table)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to encode template", err, r))
		return
	}

	serviceRoot := s.node.ServiceRoot(id)
	if err := os.MkdirAll(serviceRoot, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to create service directory", err, r))
		return
	}
	if err := os.WriteFile(filepath.Join(serviceRoot, "config.example.toml"), data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to write template", err, r))
		return
	}

	writeMessage(w, http.StatusOK, "config template created successfully")
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	templatePath := filepath.Join(s.node.ServiceRoot(id), "config.example.toml")
	if err := os.Remove(templatePath); err != nil && !os.IsNotExist(err) {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to delete template", err, r))
		return
	}

	writeMessage(w, http.StatusOK, "config template deleted")
}
