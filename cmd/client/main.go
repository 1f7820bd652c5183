package main

import "edudesk/cmd/client/cmd"

func main() {
	cmd.Execute()
}
