package main

import "github.com/cartolinadev/cartolina-tileserver/internal/cmd"

func main() {
	cmd.Execute()
}
