package main

import "github.com/isthatamullet/claude-vector-db-sub002/internal/cli"

func main() {
	cli.Execute()
}
