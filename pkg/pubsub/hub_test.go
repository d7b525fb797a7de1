package pubsub

import "testing"

func TestHubDropsWhenFull(t *testing.T) {
	var h Hub[int]
	ch, cancel := h.Subscribe(1)
	h.Publish(1)
	h.Publish(2)
	if v := <-ch; v != 1 {
		t.Fatal(v)
	}
	select {
	case v := <-ch:
		t.Fatal("expect drop", v)
	default:
	}
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expect closed")
	}
	cancel()
	if h.Len() != 0 {
		t.Fatal(h.Len())
	}
}

func TestHubClose(t *testing.T) {
	var h Hub[string]
	a, _ := h.Subscribe(4)
	b, cancel := h.Subscribe(4)
	h.Publish("x")
	h.Close()
	for _, ch := range []<-chan string{a, b} {
		if v := <-ch; v != "x" {
			t.Fatal(v)
		}
		if _, ok := <-ch; ok {
			t.Fatal("expect closed")
		}
	}
	// 关闭后取消不会重复 close
	cancel()
}
