package receipt

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			key      string
			data     []byte
			savedKey string
			err      error
		)

		BeforeEach(func() {
			key = "abc123_receipt.pdf"
			data = []byte("%PDF-1.4 test file content")
		})

		JustBeforeEach(func() {
			savedKey, err = storage.Save(key, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the key", func() {
				Expect(savedKey).To(Equal(key))
			})

			It("should write the blob to disk", func() {
				Expect(filepath.Join(tmpDir, key)).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		var (
			key  string
			data []byte
			err  error
		)

		BeforeEach(func() {
			key = "abc123_receipt.pdf"
		})

		JustBeforeEach(func() {
			data, err = storage.Get(key)
		})

		When("the blob exists", func() {
			BeforeEach(func() {
				_, saveErr := storage.Save(key, []byte("stored bytes"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored bytes", func() {
				Expect(string(data)).To(Equal("stored bytes"))
			})
		})

		When("the blob does not exist", func() {
			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		var (
			key string
			err error
		)

		BeforeEach(func() {
			key = "abc123_receipt.pdf"
		})

		JustBeforeEach(func() {
			err = storage.Delete(key)
		})

		When("the blob exists", func() {
			BeforeEach(func() {
				_, saveErr := storage.Save(key, []byte("stored bytes"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove the blob", func() {
				Expect(filepath.Join(tmpDir, key)).NotTo(BeAnExistingFile())
			})
		})

		When("the blob does not exist", func() {
			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
