package resource

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/keyvault/crypto"
)

// batchWorkers bounds the decryption concurrency for list fetches.
const batchWorkers = 4

// DecryptNotes decrypts a list of notes concurrently over a single key
// snapshot. Items that fail to decrypt are logged and omitted; the skipped
// count lets the caller surface "N items could not be decrypted" without
// aborting the whole list.
func (c *Cipher) DecryptNotes(notes []Note) ([]NotePlain, int, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, 0, err
	}
	key := snap.Key()

	results := make([]*NotePlain, len(notes))
	runBatch(len(notes), func(i int) {
		plain, err := decryptNoteWithKey(notes[i], key)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "DecryptNotes",
				"note_id":  notes[i].ID.String(),
				"error":    err.Error(),
			}).Warn("Skipping undecryptable note")
			return
		}
		results[i] = plain
	})
	crypto.WipeKey(&key)

	out := make([]NotePlain, 0, len(notes))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, len(notes) - len(out), nil
}

// DecryptChats decrypts a list of chats concurrently over a single key
// snapshot, with the same skip-and-report failure policy as DecryptNotes.
func (c *Cipher) DecryptChats(chats []Chat) ([]ChatPlain, int, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, 0, err
	}
	key := snap.Key()

	results := make([]*ChatPlain, len(chats))
	runBatch(len(chats), func(i int) {
		plain, err := decryptChatWithKey(chats[i], key)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "DecryptChats",
				"chat_id":  chats[i].ID.String(),
				"error":    err.Error(),
			}).Warn("Skipping undecryptable chat")
			return
		}
		results[i] = plain
	})
	crypto.WipeKey(&key)

	out := make([]ChatPlain, 0, len(chats))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, len(chats) - len(out), nil
}

// runBatch fans n index-addressed jobs out over a bounded worker pool.
func runBatch(n int, job func(i int)) {
	if n == 0 {
		return
	}

	workers := batchWorkers
	if n < workers {
		workers = n
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				job(i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
}
