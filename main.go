package main

import "github.com/nexocrm/authsvc/cmd"

func main() {
	cmd.Execute()
}
