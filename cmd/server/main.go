package main

func main() {
	srv := NewServer()
	defer srv.Hub.Stop()
	defer srv.Log.Sync()

	srv.Run()
}
