package main

import "github.com/chatsync/services/chatclient/cmd"

func main() {
	cmd.Execute()
}
