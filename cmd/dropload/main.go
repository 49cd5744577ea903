// Command dropload loads CSV files dropped into a folder into PostgreSQL.
package main

func main() {
	Execute()
}
