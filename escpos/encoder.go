package escpos

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/holodroid23-tech/pos-hardware/device"
)

// ESC/POS control sequences. Only the subset thermal receipt printers
// commonly implement.
var (
	cmdInit        = []byte{0x1B, 0x40}             // ESC @
	cmdCharset     = []byte{0x1B, 0x74, 0x00}       // ESC t 0 (PC437)
	cmdBoldOn      = []byte{0x1B, 0x45, 0x01}       // ESC E 1
	cmdBoldOff     = []byte{0x1B, 0x45, 0x00}       // ESC E 0
	cmdAlignLeft   = []byte{0x1B, 0x61, 0x00}       // ESC a 0
	cmdAlignCenter = []byte{0x1B, 0x61, 0x01}       // ESC a 1
	cmdPartialCut  = []byte{0x1D, 0x56, 0x41, 0x03} // GS V 65 3
)

const trailingFeedLines = 4

// Item is one sale line.
type Item struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// ReceiptData is an immutable snapshot of one sale. Amount validation
// is the caller's responsibility; values are rendered as-is.
type ReceiptData struct {
	StoreName    string    `json:"storeName"`
	StoreAddress string    `json:"storeAddress"`
	StorePhone   string    `json:"storePhone"`
	OrderID      string    `json:"orderId"`
	Timestamp    time.Time `json:"timestamp"`
	Cashier      string    `json:"cashier"`
	Items        []Item    `json:"items"`
	Subtotal     float64   `json:"subtotal"`
	Tax          float64   `json:"tax"`
	TaxRate      float64   `json:"taxRate"`
	Total        float64   `json:"total"`
}

// SeparatorStyle selects the rule character between receipt sections.
type SeparatorStyle string

const (
	SeparatorDashed SeparatorStyle = "dashed"
	SeparatorDotted SeparatorStyle = "dotted"
	SeparatorSolid  SeparatorStyle = "solid"
)

func (s SeparatorStyle) char() string {
	switch s {
	case SeparatorDotted:
		return "."
	case SeparatorSolid:
		return "="
	default:
		return "-"
	}
}

// FontFamily selects the line layout strategy.
type FontFamily string

const (
	FontMonospace FontFamily = "monospace"
	FontSans      FontFamily = "sans"
)

// FontSize is carried in the layout for renderers that honor it; the
// wire subset used here has no size command.
type FontSize string

const (
	FontSizeS FontSize = "S"
	FontSizeM FontSize = "M"
	FontSizeL FontSize = "L"
)

// LayoutConfig controls which blocks a receipt carries and how lines
// are laid out.
type LayoutConfig struct {
	ShowDateTime bool
	ShowOrderID  bool
	ShowCashier  bool
	ShowQR       bool

	Separator     SeparatorStyle
	FontFamily    FontFamily
	FontSize      FontSize
	FooterMessage string
	Paper         device.PaperSize
}

// Encode renders structured sale data into a printer-ready ESC/POS
// byte stream. Pure function of its inputs: same data, config and
// rasters always produce byte-identical output.
func Encode(data ReceiptData, cfg LayoutConfig, logo, qr *Raster) []byte {
	cols := cfg.Paper.Columns()
	sep := strings.Repeat(cfg.Separator.char(), cols)

	var buf bytes.Buffer
	buf.Write(cmdInit)
	buf.Write(cmdCharset)

	// Header: centered logo and/or bold store name, address, phone.
	buf.Write(cmdAlignCenter)
	if logo != nil {
		writeRaster(&buf, logo)
	}
	if data.StoreName != "" {
		buf.Write(cmdBoldOn)
		writeLine(&buf, data.StoreName)
		buf.Write(cmdBoldOff)
	}
	if data.StoreAddress != "" {
		writeLine(&buf, data.StoreAddress)
	}
	if data.StorePhone != "" {
		writeLine(&buf, data.StorePhone)
	}

	// Metadata block, left-aligned, gated by config flags.
	buf.Write(cmdAlignLeft)
	if cfg.ShowOrderID || cfg.ShowDateTime || cfg.ShowCashier {
		writeLine(&buf, sep)
		if cfg.ShowOrderID {
			writeLine(&buf, "Receipt #: "+data.OrderID)
		}
		if cfg.ShowDateTime {
			writeLine(&buf, "Date: "+data.Timestamp.Format("2006-01-02 15:04"))
		}
		if cfg.ShowCashier {
			writeLine(&buf, "Cashier: "+data.Cashier)
		}
	}
	writeLine(&buf, sep)

	for _, it := range data.Items {
		writeLine(&buf, formatItemLine(it, cfg.FontFamily, cols))
	}

	writeLine(&buf, sep)
	writeLine(&buf, amountLine("Subtotal", data.Subtotal, cfg.FontFamily, cols))
	writeLine(&buf, amountLine(taxLabel(data.TaxRate), data.Tax, cfg.FontFamily, cols))
	buf.Write(cmdBoldOn)
	writeLine(&buf, amountLine("TOTAL", data.Total, cfg.FontFamily, cols))
	buf.Write(cmdBoldOff)
	writeLine(&buf, sep)

	if cfg.FooterMessage != "" {
		buf.Write(cmdAlignCenter)
		writeLine(&buf, cfg.FooterMessage)
	}
	if cfg.ShowQR && qr != nil {
		buf.Write(cmdAlignCenter)
		writeRaster(&buf, qr)
	}

	buf.WriteString(strings.Repeat("\n", trailingFeedLines))
	buf.Write(cmdPartialCut)
	return buf.Bytes()
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func taxLabel(rate float64) string {
	return fmt.Sprintf("Tax (%.1f%%)", rate*100)
}

// formatItemLine lays out one item. Monospace receipts right-pad the
// name and right-align the extended price so the line spans exactly
// the paper's character width, truncating long names with an ellipsis.
func formatItemLine(it Item, family FontFamily, cols int) string {
	price := money(it.UnitPrice * float64(it.Quantity))
	name := fmt.Sprintf("%dx %s", it.Quantity, it.Name)
	if family != FontMonospace {
		return name + "  " + price
	}
	return twoColumn(name, price, cols)
}

func amountLine(label string, v float64, family FontFamily, cols int) string {
	price := money(v)
	if family != FontMonospace {
		return label + "  " + price
	}
	return twoColumn(label, price, cols)
}

// twoColumn pads left so left+gap+right is exactly cols characters.
// An amount too wide to leave room for the label goes on its own line
// with the label above it.
func twoColumn(left, right string, cols int) string {
	avail := cols - len(right) - 1
	if avail < 4 {
		if len(left) > cols {
			left = left[:cols]
		}
		return left + "\n" + strings.Repeat(" ", max(cols-len(right), 0)) + right
	}
	if len(left) > avail {
		left = left[:avail-3] + "..."
	}
	return left + strings.Repeat(" ", cols-len(left)-len(right)) + right
}

// writeLine encodes a text line to code page 437 and terminates it.
// Text that cannot be mapped is sent as raw UTF-8 bytes rather than
// dropped.
func writeLine(buf *bytes.Buffer, s string) {
	encoded, _, err := transform.Bytes(charmap.CodePage437.NewEncoder(), []byte(s))
	if err != nil {
		encoded = []byte(s)
	}
	buf.Write(encoded)
	buf.WriteByte('\n')
}

// writeRaster emits a GS v 0 raster block: mode 0, little-endian
// width-in-bytes and height, then MSB-first bit-packed rows.
func writeRaster(buf *bytes.Buffer, r *Raster) {
	rowBytes := r.Width / 8
	buf.Write([]byte{
		0x1D, 0x76, 0x30, 0x00,
		byte(rowBytes), byte(rowBytes >> 8),
		byte(r.Height), byte(r.Height >> 8),
	})
	buf.Write(r.Pack())
}
