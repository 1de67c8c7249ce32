package main

import "github.com/andresmejia3/facereel/cmd"

func main() {
	cmd.Execute()
}
