package validation

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/vinodismyname/mcpsales/pkg/pagination"
)

var (
	v    *validator.Validate
	once sync.Once
)

func hasExt(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(path)))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Validator returns a singleton validator with custom rules registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()
		// Custom: sales input must be CSV or Excel
		_ = v.RegisterValidation("sales_path", func(fl validator.FieldLevel) bool {
			return hasExt(fl.Field().String(), ".csv", ".xlsx", ".xlsm")
		})
		// Custom: export target format
		_ = v.RegisterValidation("export_path", func(fl validator.FieldLevel) bool {
			return hasExt(fl.Field().String(), ".csv", ".xlsx", ".json")
		})
		// Custom: category identifier or business label
		_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
			_, err := sales.ParseCategory(fl.Field().String())
			return err == nil
		})
		// Custom: column preset name
		_ = v.RegisterValidation("column_preset", func(fl validator.FieldLevel) bool {
			_, ok := ingest.ColumnPreset(fl.Field().String())
			return ok
		})
		// Custom: cursor must be decodable via pagination.DecodeCursor
		_ = v.RegisterValidation("cursor", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return true // empty is allowed; use omitempty with this tag
			}
			if _, err := base64.RawURLEncoding.DecodeString(s); err != nil {
				return false
			}
			_, err := pagination.DecodeCursor(s)
			return err == nil
		})
	})
	return v
}

// ValidateStruct validates a struct and returns a user-friendly error string
// suitable for MCP tool errors. Returns empty string when valid.
func ValidateStruct(s any) string {
	err := Validator().Struct(s)
	if err == nil {
		return ""
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return "VALIDATION: invalid inputs"
	}
	fe := ve[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("VALIDATION: %s is required", field)
	case "required_without":
		return fmt.Sprintf("VALIDATION: %s is required (or supply cursor)", field)
	case "sales_path":
		return "VALIDATION: path must be a sales file (.csv, .xlsx, .xlsm)"
	case "export_path":
		return "VALIDATION: output must end in .csv, .xlsx or .json"
	case "category":
		return "VALIDATION: categories must be Underperforming, Performing, TopPerforming (or Kurang Laris, Laris, Sangat Laris)"
	case "column_preset":
		return "VALIDATION: columns must be id or en"
	case "cursor":
		return "CURSOR_INVALID: failed to decode cursor; restart pagination"
	case "min", "max", "gte", "lte":
		return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("VALIDATION: invalid %s", field)
}
