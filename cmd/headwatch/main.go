// headwatch watches a camera feed and flags when the monitored person's
// head drops below their calibrated posture.
//
// Usage:
//
//	headwatch watch --camera http://192.168.4.1/capture
//	headwatch replay ./frames
//	headwatch detect snapshot.jpg --out annotated.jpg
package main

func main() {
	Execute()
}
