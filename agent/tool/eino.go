package tool

import (
	"context"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type einoTool struct {
	catalog *Catalog
	name    string
}

var _ einotool.InvokableTool = (*einoTool)(nil)

func (t *einoTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.catalog.handlers[t.name].info(), nil
}

func (t *einoTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...einotool.Option) (string, error) {
	res, err := t.catalog.Execute(ctx, t.name, argumentsInJSON)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// EinoTools exposes every catalog entry to the eino agent runtime.
func (c *Catalog) EinoTools() []einotool.BaseTool {
	names := c.Names()
	out := make([]einotool.BaseTool, 0, len(names))
	for _, name := range names {
		out = append(out, &einoTool{catalog: c, name: name})
	}
	return out
}
