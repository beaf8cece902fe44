package device

// Kind classifies what a device does.
type Kind string

const (
	KindPrinter    Kind = "printer"
	KindTerminal   Kind = "terminal"
	KindScanner    Kind = "scanner"
	KindCardReader Kind = "card_reader"
)

// ConnectionType identifies the transport a device is reached over.
type ConnectionType string

const (
	ConnBluetooth ConnectionType = "bluetooth"
	ConnUSB       ConnectionType = "usb"
	ConnNetwork   ConnectionType = "network"
	ConnEmbedded  ConnectionType = "embedded"
)

// Status is the operational state of a device.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// PaperSize is the roll width of a thermal printer.
type PaperSize string

const (
	Paper58mm PaperSize = "58mm"
	Paper80mm PaperSize = "80mm"
)

// Columns returns the character width of a monospace receipt line
// for this paper size.
func (p PaperSize) Columns() int {
	if p == Paper80mm {
		return 48
	}
	return 32
}

// Device is a known POS peripheral. Printers carry PaperSize, payment
// terminals carry Provider; the other optional fields stay empty.
type Device struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Kind           Kind           `json:"kind"`
	ConnectionType ConnectionType `json:"connectionType"`
	Status         Status         `json:"status"`
	Connected      bool           `json:"isConnected"`

	// Address is the transport locator: a serial port path, a BLE MAC
	// address, or a native SDK reader identifier.
	Address string `json:"address,omitempty"`

	PaperSize PaperSize `json:"paperSize,omitempty"`
	Provider  string    `json:"provider,omitempty"`
}
