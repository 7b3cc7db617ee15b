package main

import (
	"context"
	"fmt"

	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/storage"
)

// storeCommand opens the configured device store, which applies pending schema upgrades,
// and lists the linked devices it holds.
func storeCommand(cfg *config.Config) error {
	fmt.Println("🗄  wabridge device store")
	fmt.Println("=======================")
	fmt.Println()

	storeCfg := storage.ConfigFromWhatsApp(cfg.WhatsApp)
	location := storeCfg.Path
	if storeCfg.Type == "postgres" {
		location = config.MaskURLPassword(storeCfg.DatabaseURL)
	}
	fmt.Printf("📁 Type: %s\n", storeCfg.Type)
	fmt.Printf("📁 Location: %s\n", location)
	fmt.Println()

	ctx := context.Background()
	fmt.Println("🔌 Connecting and upgrading schema...")
	store, err := storage.Open(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("opening device store: %w", err)
	}
	defer store.Close()
	fmt.Println("✓ Schema is up to date")
	fmt.Println()

	devices, err := store.Container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("No linked device yet. Run 'wabridge serve' and scan the QR code.")
		return nil
	}

	fmt.Printf("📱 Linked devices (%d):\n", len(devices))
	for _, dev := range devices {
		id := "(unpaired)"
		if dev.ID != nil {
			id = dev.ID.String()
		}
		fmt.Printf("  • %s", id)
		if dev.PushName != "" {
			fmt.Printf("  %s", dev.PushName)
		}
		if dev.Platform != "" {
			fmt.Printf("  [%s]", dev.Platform)
		}
		fmt.Println()
	}
	return nil
}
