// Command wardrive ingests access point sightings, forwards them to a remote
// feed and reports insecure hotspots.
package main

func main() {
	Execute()
}
