package styles

import (
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// WriteTable prints the catalogue as a borderless, left-aligned table.
func (r *Registry) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"STYLE", "BASE MODEL", "REFINER", "PROFILES", "ADAPTER", "OVERLAY"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for _, c := range r.All() {
		refiner, adapter, overlay := "-", "-", "-"
		if c.RefinerModel != "" {
			refiner = c.RefinerModel
		}
		if c.HasAdapter() {
			adapter = c.Adapter.Ref()
		}
		if c.Overlay != nil {
			overlay = c.Overlay.Ref
		}
		table.Append([]string{c.StyleName, c.BaseModel, refiner, strings.Join(profileNames(c.Capabilities), ","), adapter, overlay})
	}
	table.Render()
}

func profileNames(c Capabilities) []string {
	names := []string{"text2img"}
	if c.SupportsImg2Img {
		names = append(names, "img2img")
	}
	if c.SupportsInpaint {
		names = append(names, "inpaint")
	}
	if c.IsStaged {
		names = append(names, "staged")
	}
	return names
}
