// schedver serves and maintains versioned schedule documents
package main

func main() {
	Execute()
}
