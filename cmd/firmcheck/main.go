// Command firmcheck checks whether a company exists by combining domain
// verification with a language model's opinion.
package main

func main() {
	Execute()
}
