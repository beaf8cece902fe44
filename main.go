package main

import (
	"log"

	"github.com/spf13/viper"

	"github.com/holodroid23-tech/pos-hardware/adapter"
	"github.com/holodroid23-tech/pos-hardware/device"
	"github.com/holodroid23-tech/pos-hardware/dispatch"
	"github.com/holodroid23-tech/pos-hardware/payment"
	"github.com/holodroid23-tech/pos-hardware/server"
)

func main() {
	// Initialize Viper to read from environment variables
	viper.AutomaticEnv()
	viper.SetDefault("SERVER_ADDRESS", "localhost:9100")
	viper.SetDefault("REGISTRY_PATH", "devices.json")
	viper.SetDefault("DEFAULT_PRINTER_ID", "")
	viper.SetDefault("DEFAULT_PAPER_SIZE", string(device.Paper58mm))
	viper.SetDefault("SIMULATED_HARDWARE", false)
	viper.SetDefault("PAYMENT_DEMO_MODE", false)

	address := viper.GetString("SERVER_ADDRESS")
	log.Printf("Server will listen on: %s", address)

	registry, err := device.Open(viper.GetString("REGISTRY_PATH"))
	if err != nil {
		panic(err)
	}
	defer registry.Flush()

	paper := device.PaperSize(viper.GetString("DEFAULT_PAPER_SIZE"))
	simulated := viper.GetBool("SIMULATED_HARDWARE")

	backend := payment.NewSimulatedBackend()

	var serialT, bleT adapter.PrinterTransport
	if simulated {
		serialT = adapter.StaticTransport{Devices: []device.Device{{
			ID:             "sim-printer-1",
			Name:           "Simulated Printer",
			Kind:           device.KindPrinter,
			ConnectionType: device.ConnUSB,
			Status:         device.StatusOffline,
			PaperSize:      paper,
		}}}
	} else {
		serialT = adapter.SerialTransport{}
		bleT = adapter.BLETransport{}
	}

	discovery := adapter.NewDiscovery(serialT, bleT, backend, paper)
	manager := adapter.NewManager(registry, payment.Dial(backend, adapter.DefaultDial))
	defer manager.CloseAll()

	dispatcher := dispatch.New(registry, manager)

	flow := payment.NewFlow(discovery, manager, backend)
	flow.Simulated = simulated
	flow.DemoMode = viper.GetBool("PAYMENT_DEMO_MODE")
	flow.OnTransition(func(tr payment.Transition) {
		log.Printf("Payment step: %s (%s)", tr.Step, tr.Message)
	})

	srv := server.New(dispatcher, viper.GetString("DEFAULT_PRINTER_ID"), address)
	if err := srv.Start(); err != nil {
		panic(err)
	}
}
