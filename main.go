package main

import "github.com/chrisdamba/foodagent/cmd"

func main() {
	cmd.Execute()
}
