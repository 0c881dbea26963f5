package banner

import (
	"fmt"
)

const banner = `
██████╗  █████╗ ██╗██████╗  ██████╗██╗  ██╗ █████╗ ████████╗
██╔══██╗██╔══██╗██║██╔══██╗██╔════╝██║  ██║██╔══██╗╚══██╔══╝
██████╔╝███████║██║██████╔╝██║     ███████║███████║   ██║
██╔═══╝ ██╔══██║██║██╔══██╗██║     ██╔══██║██╔══██║   ██║
██║     ██║  ██║██║██║  ██║╚██████╗██║  ██║██║  ██║   ██║
╚═╝     ╚═╝  ╚═╝╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// Print writes the startup banner with the effective runtime settings.
func Print(addr, dbPath, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config source: %s\n", source)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST   /v1/chats/messages                      - Send a message")
	fmt.Println("GET    /v1/chats/conversations                 - List your conversations")
	fmt.Println("GET    /v1/chats/conversations/{id}/messages   - Conversation history")
	fmt.Println("PUT    /v1/chats/messages/read                 - Mark messages read")
	fmt.Println("POST   /v1/chats/messages/{id}/reactions       - React to a message")
	fmt.Println("PATCH  /v1/chats/messages/{id}                 - Edit a message")
	fmt.Println("DELETE /v1/chats/messages/{id}                 - Delete a message")
	fmt.Println("GET    /v1/chats/users/{id}/status             - Presence lookup")
	fmt.Println("GET    /ws                                     - Live event stream")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/chats/messages' -H 'X-API-Key: <key>' -H 'X-User-ID: alice' -d '{\"receiver\":\"bob\",\"content\":\"hello\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/chats/conversations' -H 'X-API-Key: <key>' -H 'X-User-ID: alice'\n", addr)
	fmt.Println("\n== Production? =================================================")
	fmt.Println("Set a proper storage path (--db)")
	fmt.Println("Configure security.api_keys and CORS origins")
}
