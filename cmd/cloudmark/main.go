// Cloudmark evaluates normalized cloud records against rule checks.
// Records in. Events out.
package main

func main() {
	Execute()
}
