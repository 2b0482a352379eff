package main

import "github.com/oshokin/repo-bootstrap/cmd/repo-bootstrap/cmd"

func main() {
	cmd.Execute()
}
