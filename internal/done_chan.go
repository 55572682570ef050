package internal

type DoneChan chan struct{}

type DoneFunc func() DoneChan

func Combine(first DoneChan, second DoneChan) DoneChan {
	ret := make(DoneChan)
	go func() {
		<-first
		<-second
		close(ret)
	}()
	return ret
}
