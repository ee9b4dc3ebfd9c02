package lights

import "fmt"

// Products lifxlan may not know about; newer IDs come from the library.
var products = map[uint32]string{
	1:  "LIFX Original 1000",
	3:  "LIFX Color 650",
	10: "LIFX White 800",
	11: "LIFX White 800",
	18: "LIFX White 900 BR30",
	20: "LIFX Color 1000 BR30",
	22: "LIFX Color 1000",
	27: "LIFX A19",
	28: "LIFX BR30",
	29: "LIFX+ A19",
	30: "LIFX+ BR30",
	31: "LIFX Z",
}

// ProductName returns a display name for a LIFX product ID.
func ProductName(id uint32) string {
	if name, ok := products[id]; ok {
		return name
	}
	return fmt.Sprintf("LIFX product %d", id)
}
