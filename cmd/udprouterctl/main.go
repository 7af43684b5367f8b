// udprouterctl is a CLI client for udprouterd's ConnectRPC control plane.
package main

import "github.com/xdp-tools/udprouter/cmd/udprouterctl/commands"

func main() {
	commands.Execute()
}
