// kmscheck reports AWS KMS customer keys that IAM Access Analyzer finds
// publicly accessible.
package main

func main() {
	Execute()
}
