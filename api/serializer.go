package api

import (
	"io"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// SonicSerializer plugs sonic into echo's c.JSON and into decodeBody.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

// Deserialize decodes the whole request body. A truncated document is an
// error, never a partial value.
func (SonicSerializer) Deserialize(c echo.Context, i interface{}) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return sonic.ConfigStd.Unmarshal(raw, i)
}
