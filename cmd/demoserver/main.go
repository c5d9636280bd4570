// Command demoserver starts the Simulant demo site: a small store with
// planted defects for persona agents to find.
// Usage: go run ./cmd/demoserver [port]
// Default port: 9999
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/simulant-labs/simulant/internal/demoserver"
)

func main() {
	cfg := demoserver.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}

	fmt.Println("===========================================")
	fmt.Println("   Simulant Demo Server - Buggy Store")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("This site ships with planted defects so agent")
	fmt.Println("runs have something real to report:")
	fmt.Println("  - Images without alt text")
	fmt.Println("  - Form inputs without labels; submit always fails")
	fmt.Println("  - Unreadably small price text")
	fmt.Println("  - A broken nav link and a dead team page")
	fmt.Println("  - A page that takes seconds to load")
	fmt.Println("  - A console error on the home page")
	fmt.Println()

	server := demoserver.NewDemoServer(cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
