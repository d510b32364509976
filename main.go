package main

import "sync-pair-backend/cmd"

func main() {
	cmd.Run()
}
